package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/device/goble"
	"github.com/srg/blescan/internal/permission"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/scanner"
)

// probingRadio is a radio that can also answer the permission question
type probingRadio interface {
	device.Radio
	permission.Prober
}

// radioFactory creates the platform radio; tests replace it with a mock.
var radioFactory = func(logger *logrus.Logger) probingRadio {
	return goble.NewRadio(logger)
}

// newScanner wires the platform radio, the permission gate and the collector
func newScanner(cfg *config.Config, logger *logrus.Logger) (*scanner.Scanner, *permission.RadioGate, error) {
	radio := radioFactory(logger)
	gate := permission.NewRadioGate(radio, logger)

	s, err := scanner.NewScanner(radio, gate, logger, collector.WithEventBuffer(cfg.EventBuffer))
	if err != nil {
		return nil, nil, err
	}
	return s, gate, nil
}
