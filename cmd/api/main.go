package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/smartcanteen/locker-service/internal/auth"
	"github.com/smartcanteen/locker-service/internal/canteen"
	"github.com/smartcanteen/locker-service/internal/config"
	"github.com/smartcanteen/locker-service/internal/httpx"
	"github.com/smartcanteen/locker-service/internal/kafkax"
	"github.com/smartcanteen/locker-service/internal/postgres"
	"github.com/smartcanteen/locker-service/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start(ctx)

	store := postgres.NewStore(db)
	svc := &canteen.Service{
		Store:    store,
		Events:   &kafkax.Sink{P: prod},
		Producer: cfg.ServiceName,
	}
	authSvc := &auth.Service{
		Store:    store,
		Sessions: &auth.RedisSessions{RDB: rdb},
		TTL:      redisx.TTLSession,
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{Svc: svc, Auth: authSvc, Redis: rdb}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox -> flush & close writer
	cancel()
	prod.WaitClosed()
}
