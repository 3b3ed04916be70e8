package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aristath/fundfolio/internal/di"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/users"
	"github.com/spf13/cobra"
)

type optimizeFlags struct {
	objective    string
	targetReturn float64
	metric       string
	targetRisk   float64
	riskProfile  string
	riskFreeRate float64
}

var optFlags optimizeFlags

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run one optimization against the cached prices and print it as JSON",
	Example: `  fundfolio optimize --objective risk
  fundfolio optimize --objective return --target-return 0.12
  fundfolio optimize --objective liquidity --metric "Turnover Ratio" --profile high`,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.StringVar(&optFlags.objective, "objective", string(optimization.ObjectiveRisk), "Objective: risk, return or liquidity")
	f.Float64Var(&optFlags.targetReturn, "target-return", 0, "Minimum annual return as a fraction, required for --objective return")
	f.StringVar(&optFlags.metric, "metric", string(optimization.DefaultLiquidityMetric), "Liquidity metric for --objective liquidity")
	f.Float64Var(&optFlags.targetRisk, "target-risk", 0, "Volatility budget as a fraction; overrides --profile")
	f.StringVar(&optFlags.riskProfile, "profile", "", "Risk profile: low, medium or high")
	f.Float64Var(&optFlags.riskFreeRate, "risk-free-rate", 0, "Risk-free rate for the Sharpe ratio; configured default when unset")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	req, err := buildRunRequest(optFlags, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	container, _, err := di.Wire(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Optimizer.RunTimeout)
	defer cancel()

	result, err := container.OptimizationService.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("optimization failed (%s): %w", optimization.ErrorKind(err), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// buildRunRequest resolves flags into a request. changed reports whether a
// flag was set on the command line.
func buildRunRequest(f optimizeFlags, changed func(name string) bool) (optimization.RunRequest, error) {
	objective, err := optimization.ParseObjective(f.objective)
	if err != nil {
		return optimization.RunRequest{}, err
	}
	metric, err := optimization.ParseLiquidityMetric(f.metric)
	if err != nil {
		return optimization.RunRequest{}, err
	}

	req := optimization.RunRequest{
		Objective:       objective,
		LiquidityMetric: metric,
		TargetRisk:      f.targetRisk,
	}
	if changed("target-return") {
		target := f.targetReturn
		req.TargetReturn = &target
	}
	if changed("risk-free-rate") {
		rf := f.riskFreeRate
		req.RiskFreeRate = &rf
	}
	if f.riskProfile != "" && !changed("target-risk") {
		profile, err := users.ParseRiskProfile(f.riskProfile)
		if err != nil {
			return optimization.RunRequest{}, err
		}
		req.TargetRisk = profile.TargetRisk()
	}
	return req, nil
}
