package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Capstone-Design2/Backend/internal/infra"
	"github.com/Capstone-Design2/Backend/internal/infra/kis"
)

// Quick REST sanity check: fetch a live quote for every configured
// instrument and show how it lands in the pipeline's decimal types.
// Needs valid KIS credentials (environment or configs/secret.yaml).

func main() {
	fmt.Println("=== KIS Quote Fetcher ===")
	fmt.Println()

	configPath := infra.ResolveConfigPath()
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		fmt.Println("❌ Failed to load config:", err)
		os.Exit(1)
	}

	secretPath := filepath.Join(filepath.Dir(configPath), "secret.yaml")
	if _, err := os.Stat(secretPath); err == nil {
		secrets, err := infra.LoadSecretConfig(secretPath)
		if err != nil {
			fmt.Println("❌ Failed to load secrets:", err)
			os.Exit(1)
		}
		secrets.Apply(cfg)
	}

	if cfg.KIS.AppKey == "" || cfg.KIS.AppSecret == "" {
		fmt.Println("❌ KIS credentials missing.")
		fmt.Println("   Set KIS_APP_KEY / KIS_APP_SECRET or create configs/secret.yaml")
		os.Exit(1)
	}

	client := kis.NewClient(cfg.KIS.RestURL, cfg.KIS.AppKey, cfg.KIS.AppSecret)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, ticker := range cfg.KIS.Instruments {
		quote, err := client.InquirePrice(ctx, ticker)
		if err != nil {
			fmt.Printf("📊 %s\n", ticker)
			fmt.Printf("   ❌ %v\n\n", err)
			failed++
			continue
		}

		fmt.Printf("📊 %s\n", ticker)
		fmt.Printf("   현재가:     ₩%s\n", quote.LastPrice)
		fmt.Printf("   전일대비:   %s\n", quote.Change)
		fmt.Printf("   누적거래량: %d\n", quote.AccVolume)
		fmt.Println()
	}

	if failed > 0 {
		fmt.Printf("❌ %d개 종목 조회 실패\n", failed)
		os.Exit(1)
	}
	fmt.Println("✅ 모든 가격이 float64 없이 decimal로 처리됨!")
}
