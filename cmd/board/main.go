package main

import (
	"flag"
	"io/ioutil"
	"log"
	"os"
	"path"

	"github.com/kasboard/kasboard/src/board"
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
	cfg := board.BoardConfig{}
	if err := yaml.Unmarshal(rawCfg, &cfg); err != nil {
		log.Printf("failed parsing config file: %s", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ApiPort, "api", cfg.ApiPort, "port to serve the json api on, default `:8080`")
	flag.StringVar(&cfg.RPCServer, "kaspa", cfg.RPCServer, "address of the kaspad node, default `localhost:16110`")
	flag.StringVar(&cfg.PromPort, "prom", cfg.PromPort, "address to serve prom stats, default `:2112`")
	flag.StringVar(&cfg.HealthCheckPort, "hcp", cfg.HealthCheckPort, `(rarely used) if defined will expose a health check on /readyz, default ""`)
	flag.StringVar(&cfg.BurnAddress, "burn", cfg.BurnAddress, `burn address watched for vote burns"`)
	flag.StringVar(&cfg.PostgresConfig, "pg", cfg.PostgresConfig, `config string for the postgres connection"`)
	flag.StringVar(&cfg.RedisConfig, "redis", cfg.RedisConfig, `config string for the redis connection"`)
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	flag.Parse()

	log.Println("----------------------------------")
	log.Printf("initializing board")
	log.Printf("\tkaspad:        %s", cfg.RPCServer)
	log.Printf("\tapi:           %s", cfg.ApiPort)
	log.Printf("\tprom:          %s", cfg.PromPort)
	log.Printf("\thealth check:  %s", cfg.HealthCheckPort)
	log.Printf("\tburn address:  %s", cfg.BurnAddress)
	log.Printf("\tredis:  		 %s", cfg.RedisConfig)
	log.Println("----------------------------------")

	if err := board.ListenAndServe(cfg); err != nil {
		log.Println(err)
	}
}
