package storage

const schemaSQL = `CREATE TABLE IF NOT EXISTS alert_log (
    id           BIGSERIAL PRIMARY KEY,
    event_id     TEXT        NOT NULL,
    channel      TEXT        NOT NULL,
    kind         TEXT        NOT NULL,
    severity     TEXT        NOT NULL,
    instrument   TEXT        NOT NULL DEFAULT '',
    title        TEXT        NOT NULL,
    description  TEXT        NOT NULL DEFAULT '',
    url          TEXT        NOT NULL DEFAULT '',
    payload      JSONB       NOT NULL DEFAULT '{}'::jsonb,
    detected_at  TIMESTAMPTZ NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (event_id, channel)
);
CREATE INDEX IF NOT EXISTS alert_log_created_at_idx ON alert_log (created_at);
CREATE INDEX IF NOT EXISTS alert_log_instrument_idx ON alert_log (instrument, created_at);`
