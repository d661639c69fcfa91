package cli

import (
	"fmt"

	"github.com/interlockhq/interlock/internal/bus"
	"github.com/interlockhq/interlock/internal/config"
	"github.com/interlockhq/interlock/internal/engine"
)

// loadConfig loads the config from --config or the default search path and
// validates it.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}
	return cfg, nil
}

// openStore opens and migrates the state bus, returning a cleanup func.
func openStore(cfg *config.Config) (*bus.Store, func(), error) {
	dsn := cfg.Storage.Path
	if cfg.Storage.Driver == "postgres" {
		dsn = cfg.Storage.URL
	}
	store, err := bus.Open(cfg.Storage.Driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// newEngine builds the engine with the registered collaborators.
func newEngine() (*engine.Engine, func(), error) {
	if registeredConnector == nil || registeredModel == nil || registeredWriteback == nil {
		return nil, nil, fmt.Errorf("no collaborators registered: this build has no connector, model, or write-back implementation")
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(store, cfg, registeredConnector, registeredModel, registeredWriteback)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}
