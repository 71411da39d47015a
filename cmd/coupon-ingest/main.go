// Command coupon-ingest issues coupons from gzip-compressed CSV exports.
//
// Each line is "tenantId,code,title,discount,validUpto" with validUpto in
// RFC 3339. Files are ingested concurrently; when the same tenant and code
// appear in several files the earliest file on the command line wins.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-service/internal/domain/coupon"
	"github.com/xenking/order-service/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

type issuer interface {
	Create(ctx context.Context, c *coupon.Coupon) error
}

type counters struct {
	issued    atomic.Int64
	duplicate atomic.Int64
	invalid   atomic.Int64
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] coupons1.csv.gz [coupons2.csv.gz ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	c, err := ingest(ctx, postgres.NewCouponRepository(pool), files)
	if err != nil {
		return err
	}
	slog.Info("coupons ingested",
		slog.Int64("issued", c.issued.Load()),
		slog.Int64("duplicate", c.duplicate.Load()),
		slog.Int64("invalid", c.invalid.Load()),
	)
	return nil
}

// ingest runs two passes. Pass 1 builds a bloom filter of the coupon keys of
// every file. Pass 2 issues every coupon whose key is definitely absent from
// all earlier files and defers the rest. Deferred coupons are issued last, so
// a true repeat hits the already issued coupon of the earlier file and a
// bloom false positive is still issued.
func ingest(ctx context.Context, coupons issuer, files []string) (*counters, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			if err := streamCoupons(gctx, path, func(c *coupon.Coupon) error {
				filter.AddString(couponKey(c))
				return nil
			}, nil); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: issuing coupons")

	var (
		c        counters
		mu       sync.Mutex
		deferred = make([][]*coupon.Coupon, len(files))
	)
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var n int64
			err := streamCoupons(gctx, path, func(cp *coupon.Coupon) error {
				if n++; n%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", path), slog.Int64("coupons", n))
				}
				key := couponKey(cp)
				for _, earlier := range filters[:i] {
					if earlier.TestString(key) {
						mu.Lock()
						deferred[i] = append(deferred[i], cp)
						mu.Unlock()
						return nil
					}
				}
				return issue(gctx, coupons, cp, &c)
			}, &c.invalid)
			if err != nil {
				return errors.Wrapf(err, "ingest %s", path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, batch := range deferred {
		slog.Info("issuing deferred coupons", slog.String("file", files[i]), slog.Int("count", len(batch)))
		for _, cp := range batch {
			if err := issue(ctx, coupons, cp, &c); err != nil {
				return nil, errors.Wrapf(err, "ingest %s", files[i])
			}
		}
	}
	return &c, nil
}

func issue(ctx context.Context, coupons issuer, cp *coupon.Coupon, c *counters) error {
	err := coupons.Create(ctx, cp)
	switch {
	case err == nil:
		c.issued.Add(1)
	case errors.Is(err, coupon.ErrAlreadyIssued):
		c.duplicate.Add(1)
	default:
		return errors.Wrapf(err, "issue coupon %s for tenant %s", cp.Code, cp.TenantID)
	}
	return nil
}

func couponKey(c *coupon.Coupon) string {
	return c.TenantID + "\x00" + c.Code
}

// streamCoupons decodes every well-formed record of a gzip-compressed CSV
// file. Malformed records are logged and counted in invalid when it is set.
func streamCoupons(ctx context.Context, path string, fn func(*coupon.Coupon) error, invalid *atomic.Int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.Comment = '#'
	r.FieldsPerRecord = 5
	r.ReuseRecord = true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return errors.Wrapf(err, "read %s", path)
			}
			if invalid != nil {
				invalid.Add(1)
				slog.Warn("skipping malformed line", slog.String("file", path), slog.String("error", err.Error()))
			}
			continue
		}

		cp, err := parseRecord(record)
		if err != nil {
			if invalid != nil {
				line, _ := r.FieldPos(0)
				invalid.Add(1)
				slog.Warn("skipping invalid coupon",
					slog.String("file", path),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if err := fn(cp); err != nil {
			return err
		}
	}
}

func parseRecord(record []string) (*coupon.Coupon, error) {
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	tenantID, code, title := record[0], record[1], record[2]
	if tenantID == "" || code == "" {
		return nil, errors.New("tenant and code are required")
	}

	discount, err := decimal.NewFromString(record[3])
	if err != nil {
		return nil, errors.Wrapf(err, "parse discount %q", record[3])
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.Errorf("discount %s is outside 0..100", discount)
	}

	validUpto, err := time.Parse(time.RFC3339, record[4])
	if err != nil {
		return nil, errors.Wrapf(err, "parse validUpto %q", record[4])
	}

	return &coupon.Coupon{
		Code:      code,
		TenantID:  tenantID,
		Title:     title,
		Discount:  discount,
		ValidUpto: validUpto.UTC(),
	}, nil
}
