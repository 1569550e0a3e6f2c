package main

import (
	"context"
	"flag"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"

	"github.com/kasboard/kasboard/src/clock"
	"github.com/kasboard/kasboard/src/common"
	"github.com/kasboard/kasboard/src/engine"
	"github.com/kasboard/kasboard/src/events"
	"github.com/kasboard/kasboard/src/kaspaapi"
	"github.com/kasboard/kasboard/src/oracle"
	"github.com/kasboard/kasboard/src/postgres"
	"github.com/kasboard/kasboard/src/settler"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

func main() {
	pwd, _ := os.Getwd()
	fullPath := path.Join(pwd, "config.yaml")
	log.Printf("loading config @ `%s`", fullPath)
	rawCfg, err := ioutil.ReadFile(fullPath)
	if err != nil {
		log.Printf("config file not found: %s", err)
		os.Exit(1)
	}
	cfg := settler.SettlerConfig{}
	if err := yaml.Unmarshal(rawCfg, &cfg); err != nil {
		log.Printf("failed parsing config file: %s", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.RPCServer, "kaspa", cfg.RPCServer, "address of the kaspad node, default `localhost:16110`")
	flag.StringVar(&cfg.PromPort, "prom", cfg.PromPort, "address to serve prom stats, default `:2112`")
	flag.StringVar(&cfg.HealthCheckPort, "hcp", cfg.HealthCheckPort, `(rarely used) if defined will expose a health check on /readyz, default ""`)
	flag.StringVar(&cfg.TreasuryWallet, "wallet", cfg.TreasuryWallet, `treasury wallet to use for all reward payouts"`)
	flag.StringVar(&cfg.PostgresConfig, "pg", cfg.PostgresConfig, `config string for the postgres connection"`)
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	flag.Parse()

	log.Println("----------------------------------")
	log.Printf("initializing settler")
	log.Printf("\tkaspad:        %s", cfg.RPCServer)
	log.Printf("\tkaspawallet:   %s", cfg.DaemonAddress)
	log.Printf("\tprom:          %s", cfg.PromPort)
	log.Printf("\thealth check:  %s", cfg.HealthCheckPort)
	log.Printf("\twallet:  		 %s", cfg.TreasuryWallet)
	log.Printf("\tmock:  		 %t", cfg.Mock)
	log.Println("----------------------------------")

	logger := common.ConfigureZap(common.LevelFromFlag(cfg.Debug))
	if cfg.PromPort != "" {
		engine.StartPromServer(logger, cfg.PromPort)
	}
	pg := postgres.NewPostgresStore(cfg.PostgresConfig)
	kapi, err := kaspaapi.NewKaspaAPI(cfg.RPCServer, logger)
	if err != nil {
		panic(err)
	}

	bus := events.NewBus(logger)
	defer bus.Stop()
	clk := clock.NewSystemClock()
	orc := oracle.NewKaspaOracle(kapi, pg, logger)
	eng := engine.New(engine.DefaultConfig(), pg, orc, clk, bus, logger)

	if cfg.HealthCheckPort != "" {
		go beginReadyzHandler(cfg, pg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payer := settler.NewPayer(cfg, logger)
	if err := settler.NewSettler(cfg, eng, pg, payer, clk, logger).StartPipeline(ctx); err != nil {
		log.Println(err)
	}
}

func beginReadyzHandler(cfg settler.SettlerConfig, pg *postgres.PostgresStore) {
	http.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(errors.Wrap(err, "failed pinging postgres").Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	go http.ListenAndServe(cfg.HealthCheckPort, nil)
}
