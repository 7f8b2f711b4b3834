package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/vitos/spot_support_bot/internal/infrastructure/storage"
	"github.com/vitos/spot_support_bot/internal/usecase"
)

// replay runs support detection offline over the samples already stored in
// the bot database. Useful for checking what the live loop would see without
// touching the exchange.
func main() {
	dbPath := flag.String("db", "bot.db", "path to sqlite database")
	symbols := flag.String("symbols", "", "comma separated symbols, e.g. BTCUSDT,ETHUSDT")
	window := flag.Int("window", 50, "number of recent samples to analyze")
	flag.Parse()

	if *symbols == "" {
		fmt.Println("usage: replay -symbols BTCUSDT[,ETHUSDT] [-db bot.db] [-window 50]")
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	detector := usecase.NewSupportDetector()

	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}

		samples, err := store.RecentSamples(ctx, symbol, *window)
		if err != nil {
			fmt.Printf("%s: error loading samples: %v\n", symbol, err)
			continue
		}
		if len(samples) == 0 {
			fmt.Printf("%s: no samples stored\n", symbol)
			continue
		}

		first := samples[0]
		last := samples[len(samples)-1]
		fmt.Printf("%s: %d samples, %s .. %s, last price %.8f\n",
			symbol, len(samples),
			first.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			last.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			last.Price)

		level := detector.Detect(samples)
		if level == nil {
			fmt.Printf("%s: no support level in window\n", symbol)
			continue
		}

		distPct := (last.Price - level.Price) / level.Price * 100
		fmt.Printf("%s: support %.8f, touches %d, strength %.2f, price is %+.2f%% from level\n",
			symbol, level.Price, level.TouchCount, level.Strength, distPct)
	}
}
