package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wdullaer/cf-ddns/api"
	"github.com/wdullaer/cf-ddns/dns"
	"github.com/wdullaer/cf-ddns/publicip"
	"github.com/wdullaer/cf-ddns/reconciler"
	"github.com/wdullaer/cf-ddns/scheduler"
	"github.com/wdullaer/cf-ddns/store"
	"github.com/wdullaer/cf-ddns/types"
	"github.com/wdullaer/cf-ddns/zonesync"
	"go.uber.org/zap"
)

// providerTimeout bounds every call to the DNS provider API
const providerTimeout = 30 * time.Second

// State is a type that serves as a container for all the state the program
// manages
// It makes the signature of functions which act on all of these easier to read
// and can act as a poor mans named parameters
type State struct {
	Config    *config
	Factory   dns.Factory
	IP        publicip.Provider
	Store     store.Store
	Engine    *reconciler.Engine
	Scheduler *scheduler.Scheduler
	Syncer    *zonesync.Syncer
	API       *api.Server
	Logger    *zap.SugaredLogger
}

// NewState returns a fully initialised application State based on the
// configuration options
func NewState(ctx context.Context, config *config, logger *zap.SugaredLogger) (*State, error) {
	state := &State{
		Config: config,
		Logger: logger,
	}

	// Create the provider factory
	state.Logger.Infow("Creating DNS Provider", "provider", config.Provider)
	factory, err := getDNSProvider(config, logger)
	if err != nil {
		return nil, err
	}
	state.Factory = factory

	// Create the store
	state.Logger.Infow("Connecting to Store", "store", config.Store)
	db, err := getStore(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	state.Store = db
	state.Logger.Infow("Connected to Store", "store", state.Config.Store)

	state.IP = publicip.NewResolver(config.mirrors, &http.Client{}, config.timeout, logger)
	state.Engine = reconciler.NewEngine(state.Store, state.IP, state.Factory, logger)
	state.Scheduler = scheduler.New(state.Engine, logger)
	state.Syncer = zonesync.NewSyncer(state.Store, state.Factory, logger, zonesync.WithGuard(state.Scheduler))
	state.API = api.NewServer(api.Options{
		Scheduler: state.Scheduler,
		Syncer:    state.Syncer,
		Logs:      state.Store,
		IP:        state.IP,
		Interval:  config.interval,
		Token:     config.ControlToken,
	}, logger)

	return state, nil
}

// RegisterBootstrapToken stores the api-token from the configuration, if any
func (state *State) RegisterBootstrapToken(ctx context.Context) error {
	if state.Config.APIToken == "" {
		return nil
	}
	key, err := state.Store.SaveAPIKey(ctx, types.APIKey{
		Token: state.Config.APIToken,
		Name:  state.Config.APITokenName,
	})
	if err != nil {
		return fmt.Errorf("failed to register api token: %w", err)
	}
	state.Logger.Infow("Registered api token", "apiKeyID", key.ID, "name", key.Name)
	return nil
}

func getLogger(config *config) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if config.DebugLogger {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, err
	}
	return logger.Named("cf-ddns").Sugar(), nil
}

func getDNSProvider(config *config, logger *zap.SugaredLogger) (dns.Factory, error) {
	switch config.Provider {
	case "cloudflare":
		return dns.NewCloudflareFactory(&http.Client{Timeout: providerTimeout}, logger), nil
	case "dryrun":
		provider, err := dns.NewDryrunProvider(logger)
		if err != nil {
			return nil, err
		}
		return dns.NewDryrunFactory(provider), nil
	default:
		// Since we are eagerly validating the config, this should never happen
		return nil, fmt.Errorf("Invalid provider specified: %s", config.Provider)
	}
}

func getStore(ctx context.Context, config *config, logger *zap.SugaredLogger) (store.Store, error) {
	switch config.Store {
	case "memory":
		return store.NewMemoryStore(logger)
	case "boltdb":
		return store.NewBoltDBStore(logger, config.DataDir)
	case "postgres":
		return store.NewPostgresStore(ctx, logger, config.DatabaseURL)
	default:
		// Since we are eagerly validating the config, this should never happen
		return nil, fmt.Errorf("Invalid store specified: %s", config.Store)
	}
}
