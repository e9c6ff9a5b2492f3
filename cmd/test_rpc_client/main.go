package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/auth"
	grpcpool "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

// 對同一個帳戶併發提款，最後檢查餘額 = 存入 - 成功筆數 * 金額
func main() {
	target := flag.String("target", "localhost:50051", "ledger gRPC address")
	secret := flag.String("secret", "change-me", "JWT HS256 secret")
	issuer := flag.String("issuer", "bank-auth", "JWT issuer")
	audience := flag.String("audience", "ledger", "JWT audience")
	totalCount := flag.Int("n", 10000, "number of withdrawals")
	concurrency := flag.Int("c", 200, "concurrent requests")
	deposit := flag.String("deposit", "1000.00", "initial deposit")
	amount := flag.String("amount", "0.25", "amount per withdrawal")
	flag.Parse()

	accountID := "loadtest-" + uuid.NewString()
	token, err := auth.NewVerifier([]byte(*secret), *issuer, *audience).Issue(accountID, "", time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	pool := grpcpool.NewPool(
		grpcpool.WithInterceptor(grpc_adapter.BearerToken(token)),
		grpcpool.WithContentSubtype(grpc_adapter.CodecName),
	)
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	c := grpc_adapter.NewLedgerServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	if _, err := c.Deposit(ctx, &grpc_adapter.DepositRequest{Amount: *deposit, Source: "loadtest"}); err != nil {
		log.Fatalf("initial deposit failed: %v", err)
	}

	var (
		wg                                         sync.WaitGroup
		succeeded, insufficient, contended, failed atomic.Int64
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.Withdraw(ctx, &grpc_adapter.WithdrawRequest{Amount: *amount})
			switch status.Code(err) {
			case codes.OK:
				succeeded.Add(1)
			case codes.FailedPrecondition:
				insufficient.Add(1)
			case codes.Aborted:
				contended.Add(1)
			default:
				failed.Add(1)
				if idx%1000 == 0 {
					log.Printf("Withdraw %d failed: %v", idx, err)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	fmt.Printf("Completed %d requests in %v\n", *totalCount, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
	fmt.Printf("ok=%d insufficient=%d contention=%d failed=%d\n",
		succeeded.Load(), insufficient.Load(), contended.Load(), failed.Load())

	snap, err := c.GetAccountSnapshot(ctx, &grpc_adapter.GetAccountSnapshotRequest{Limit: 1})
	if err != nil {
		log.Fatalf("snapshot failed: %v", err)
	}
	want := decimal.RequireFromString(*deposit).
		Sub(decimal.RequireFromString(*amount).Mul(decimal.NewFromInt(succeeded.Load())))
	got := decimal.RequireFromString(snap.Balance)
	fmt.Printf("balance=%s expected=%s version=%d\n", snap.Balance, want.StringFixed(2), snap.Version)
	if !got.Equal(want) || snap.Version != uint64(succeeded.Load())+1 {
		log.Fatalf("ledger mismatch: balance %s (want %s), version %d (want %d)",
			got, want, snap.Version, succeeded.Load()+1)
	}
}
