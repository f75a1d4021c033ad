package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

const usage = `Usage: %s [options]

  Keeps the auto-update DNS records of your Cloudflare zones pointed at the
  public IPv4 address of this machine, and exposes a small control API.

  Options can be passed in as commandline flags, environment variables (or a
  .env file) and a YAML config file. Commandline flags take precedence over
  environment variables, which take precedence over the config file.

 Options:
 `

// parseFlags builds the configuration from args, falling back to the environment for defaults
// It must run after the .env file has been loaded
func parseFlags(args []string) (*config, error) {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), usage, args[0])
		flags.PrintDefaults()
	}

	c := &config{}
	configFile := flags.String("config", os.Getenv("CONFIG_FILE"), "A YAML file with default values for the options below (env: `CONFIG_FILE`)")
	flags.StringVar(&c.Provider, "provider", os.Getenv("PROVIDER"), "The DNS provider that hosts the zones (env: `PROVIDER`, default: `cloudflare`, oneOf: [`cloudflare`, `dryrun`])")
	flags.StringVar(&c.APIToken, "api-token", os.Getenv("API_TOKEN"), "An API token registered on startup, its zones and records are synchronized (env: `API_TOKEN`)")
	flags.StringVar(&c.APITokenName, "api-token-name", os.Getenv("API_TOKEN_NAME"), "A display name for api-token (env: `API_TOKEN_NAME`, default: `default`)")
	flags.StringVar(&c.Store, "store", os.Getenv("STORE"), "The store implementation that persists the internal state (env: `STORE`, default: `memory`, oneOf: [`memory`, `boltdb`, `postgres`])")
	flags.StringVar(&c.DataDir, "data-dir", os.Getenv("DATA_DIR"), "The directory of the boltdb store (env: `DATA_DIR`, default: `./data`)")
	flags.StringVar(&c.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "The postgres connection URL of the postgres store (env: `DATABASE_URL`)")
	flags.StringVar(&c.UpdateInterval, "update-interval", os.Getenv("UPDATE_INTERVAL"), "Minutes between two automatic updates (env: `UPDATE_INTERVAL`, default: `5`)")
	flags.StringVar(&c.IPMirrors, "ip-mirrors", os.Getenv("IP_MIRRORS"), "Comma separated URLs that return the public IPv4 address, tried in order (env: `IP_MIRRORS`)")
	flags.StringVar(&c.IPTimeout, "ip-timeout", os.Getenv("IP_TIMEOUT"), "Timeout of a single IP mirror request (env: `IP_TIMEOUT`, default: `10s`)")
	flags.StringVar(&c.ListenAddress, "listen-address", os.Getenv("LISTEN_ADDRESS"), "Address of the control API, empty disables it (env: `LISTEN_ADDRESS`, default: `:8080`)")
	flags.StringVar(&c.ControlToken, "control-token", os.Getenv("CONTROL_TOKEN"), "Bearer token required by the control API (env: `CONTROL_TOKEN`)")
	flags.BoolVar(&c.DebugLogger, "debug-logger", envBool("DEBUG_LOGGER"), "Use the human readable development logger (env: `DEBUG_LOGGER`)")

	if err := flags.Parse(args[1:]); err != nil {
		return nil, err
	}

	_, c.listenSet = os.LookupEnv("LISTEN_ADDRESS")
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "listen-address" {
			c.listenSet = true
		}
	})

	if *configFile != "" {
		if err := loadConfigFile(*configFile, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func envBool(name string) bool {
	value, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && value
}
