package main

import (
	"strings"
	"sync"

	"reel/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the daemon API address: the --api flag wins, then the
// configured bind address.
func (c *commandContext) baseURL() (string, error) {
	if c.apiFlag != nil {
		if flag := strings.TrimSpace(*c.apiFlag); flag != "" {
			if strings.HasPrefix(flag, "http://") || strings.HasPrefix(flag, "https://") {
				return strings.TrimRight(flag, "/"), nil
			}
			return "http://" + flag, nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + strings.TrimSpace(cfg.Paths.APIBind), nil
}

func (c *commandContext) client() (*daemonClient, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	return newDaemonClient(base), nil
}
