package common

type CommonConfig struct {
	RPCServer       string `yaml:"kaspad_address"`
	PromPort        string `yaml:"prom_port"`
	HealthCheckPort string `yaml:"health_check_port"`
	PostgresConfig  string `yaml:"postgres"`
	RedisConfig     string `yaml:"redis"`
	BurnAddress     string `yaml:"burn_address"`
	TreasuryWallet  string `yaml:"treasury_wallet"`
	Debug           bool   `yaml:"debug"`
}
