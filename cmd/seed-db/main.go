package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shop-orders/db"
	"github.com/xenking/shop-orders/internal/domain/product"
	"github.com/xenking/shop-orders/internal/storage/postgres"
)

type productJSON struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (embedded catalog when empty)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: databaseURL})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	return seedProducts(ctx, lg, postgres.NewProductRepository(pool), products)
}

func readProducts(path string) ([]product.Product, error) {
	data := db.SeedProducts
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
	}

	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	products := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID <= 0 || p.Name == "" || p.Price.IsNegative() || p.Stock < 0 {
			return nil, errors.Errorf("invalid product %d %q", p.ID, p.Name)
		}
		products = append(products, product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Price: p.Price.Round(2),
			Stock: p.Stock,
		})
	}
	return products, nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, catalog product.Catalog, products []product.Product) error {
	lg.Info("Upserting products", zap.Int("count", len(products)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range products {
		p := &products[i]
		g.Go(func() error {
			if err := catalog.Upsert(ctx, p); err != nil {
				return err
			}
			// Re-seeding keeps the sold counter, report what is stored.
			stored, err := catalog.GetByID(ctx, p.ID)
			if err != nil {
				return errors.Wrapf(err, "read back product %d", p.ID)
			}
			lg.Info("Upserted product",
				zap.Int64("id", stored.ID),
				zap.String("name", stored.Name),
				zap.String("price", stored.Price.StringFixed(2)),
				zap.Int("stock", stored.Stock),
				zap.Int("sold", stored.Sold),
			)
			return nil
		})
	}
	return g.Wait()
}
