package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"market-alerts/internal/app"
)

var (
	simulateSymbol  string
	simulateFromPct float64
	simulateToPct   float64
	simulatePrice   float64
	simulateDryRun  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格波动并走完整告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol 不能为空")
		}
		if simulatePrice < 0 {
			return errors.New("--price 不能为负数")
		}

		sent, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:  simulateSymbol,
			FromPct: simulateFromPct,
			ToPct:   simulateToPct,
			Price:   simulatePrice,
			DryRun:  simulateDryRun,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alerts dispatched: %d\n", sent)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTC", "标的代码")
	simulateCmd.Flags().Float64Var(&simulateFromPct, "from-pct", 0, "第一次快照的 24h 涨跌幅 (%)")
	simulateCmd.Flags().Float64Var(&simulateToPct, "to-pct", 12, "第二次快照的 24h 涨跌幅 (%)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "合成价格, 0 表示使用默认值")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "只写日志, 不发送到真实通道")
}
