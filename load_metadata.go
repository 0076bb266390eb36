package main

import (
	"errors"

	"go.uber.org/zap"

	"mapring/config"
	"mapring/engine"
	"mapring/logger"
	"mapring/utils"
)

// CheckAndLoadMetadata returns the node identity saved in db, or creates and
// saves a new one from cfg.
func CheckAndLoadMetadata(db *engine.Engine, cfg config.NodeConfig) (*config.Server, error) {
	log := logger.Named("metadata")

	server, err := db.LoadServerMetadata()
	if errors.Is(err, engine.ErrNotFound) {
		server, err = config.NewServer(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.SaveServerMetadata(server); err != nil {
			return nil, err
		}
		log.Info("created new server config", zap.String("id", server.ServerID))
		return server, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("loaded server config from database", zap.String("id", server.ServerID))

	// Host is informational; refresh it in case the machine moved networks.
	if cfg.Host == "" {
		if ip, err := utils.GetLocalIp(); err == nil && ip != server.Host {
			log.Info("updating host ip", zap.String("from", server.Host), zap.String("to", ip))
			server.Host = ip
		}
	}
	server.HostInfo = config.LookupHostInfo()
	return server, nil
}
