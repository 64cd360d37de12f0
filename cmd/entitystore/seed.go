package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/entitystore/model"
)

const defaultSeedCount = 12

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo tasks and products",
	Long: `Seed inserts numbered demo tasks, every second one completed, and a
small product catalogue through the configured store.

Example:
  entitystore seed --count 25
  ENTITYSTORE_STORE_DRIVER=postgres entitystore seed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := seedDemo(cmd.Context(), a, seedCount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "inserted %d records\n", n)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", defaultSeedCount, "number of tasks to insert")
}

var demoProducts = []model.Entity{
	{"name": "Vitamin C", "description": "Daily immune support", "category": "health", "price": 9.5, "inStock": true},
	{"name": "Toothbrush", "description": "Soft bristles", "category": "personal-care", "price": 3.25, "inStock": true},
	{"name": "Kettle", "description": "1.7 litre electric kettle", "category": "home-appliances", "price": 29.99, "inStock": false},
	{"name": "Shampoo", "description": "For all hair types", "category": "personal-care", "price": 6, "inStock": true},
}

// seedDemo inserts count tasks and the demo products and returns how many
// records were written.
func seedDemo(ctx context.Context, a *app, count int) (int, error) {
	written := 0

	tasks, err := a.entity(ctx, "tasks")
	if err != nil {
		return written, err
	}
	for i := 1; i <= count; i++ {
		if _, err := tasks.Insert(ctx, model.Entity{
			"title":     fmt.Sprintf("task %02d", i),
			"completed": i%2 == 0,
		}); err != nil {
			return written, fmt.Errorf("inserting task %d: %w", i, err)
		}
		written++
	}

	products, err := a.entity(ctx, "products")
	if err != nil {
		return written, err
	}
	for _, p := range demoProducts {
		if _, err := products.Insert(ctx, p); err != nil {
			return written, fmt.Errorf("inserting product %v: %w", p["name"], err)
		}
		written++
	}

	a.logger.Debug("seed complete", zap.Int("records", written))
	return written, nil
}
