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

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	grpcx "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

// ledgerctl 壓測工具：開兩個帳戶後互相轉帳，結束時檢查總額不變
func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	total := flag.Int("n", 100000, "number of transfers")
	concurrency := flag.Int("c", 1000, "concurrent requests")
	initial := flag.Int64("balance", 1000000, "initial balance of each account (minor units)")
	amount := flag.Int64("amount", 100, "amount per transfer (minor units)")
	currency := flag.String("currency", "USD", "account currency")
	timeout := flag.Duration("timeout", 120*time.Second, "overall timeout")
	flag.Parse()

	pool := grpcx.NewPool()
	defer pool.Close()
	conn, err := pool.GetConnection(*addr)
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	c := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	owner := "ledgerctl-" + uuid.NewString()[:8]
	a := openAccount(ctx, c, owner, *initial, *currency)
	b := openAccount(ctx, c, owner, *initial, *currency)
	log.Printf("Opened %s (id=%d) and %s (id=%d)", a.Number, a.ID, b.Number, b.ID)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		rejected atomic.Int64
		failed   atomic.Int64
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *total; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			// 雙向交錯轉帳，鎖順序錯誤的實作會在這裡死鎖
			from, to := a, b
			if idx%2 == 1 {
				from, to = b, a
			}
			resp, err := c.Transfer(ctx, &grpc_adapter.TransferRequest{
				FromAccountID:   from.ID,
				ToAccountNumber: to.Number,
				Amount:          *amount,
				IdempotencyKey:  uuid.NewString(),
			})
			switch {
			case err != nil:
				failed.Add(1)
				if idx%10000 == 0 {
					log.Printf("Transfer %d failed: %v", idx, err)
				}
			case !resp.Success:
				rejected.Add(1)
			default:
				ok.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(startTime)

	fa := getAccount(ctx, c, a.ID)
	fb := getAccount(ctx, c, b.ID)
	sum := fa.Balance + fb.Balance

	fmt.Printf("Completed %d requests in %v\n", *total, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*total)/elapsed.Seconds())
	fmt.Printf("ok=%d rejected=%d errors=%d\n", ok.Load(), rejected.Load(), failed.Load())
	fmt.Printf("%s: %s, %s: %s\n", fa.Number, fa.BalanceText, fb.Number, fb.BalanceText)
	if sum != 2**initial {
		log.Fatalf("conservation violated: %d + %d != %d", fa.Balance, fb.Balance, 2**initial)
	}
	fmt.Println("Conservation check passed")
}

func openAccount(ctx context.Context, c *grpc_adapter.Client, owner string, balance int64, currency string) *grpc_adapter.Account {
	resp, err := c.OpenAccount(ctx, &grpc_adapter.OpenAccountRequest{
		OwnerID:        owner,
		InitialBalance: balance,
		Currency:       currency,
	})
	if err != nil {
		log.Fatalf("open account: %v", err)
	}
	return resp.Account
}

func getAccount(ctx context.Context, c *grpc_adapter.Client, id int64) *grpc_adapter.Account {
	resp, err := c.GetAccount(ctx, &grpc_adapter.GetAccountRequest{AccountID: id})
	if err != nil {
		log.Fatalf("get account %d: %v", id, err)
	}
	return resp.Account
}
