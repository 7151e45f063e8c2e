package main

import (
	"context"
	"fmt"

	"github.com/NotCoffee418/meter_telegram/pkg/decoder"
	"github.com/NotCoffee418/meter_telegram/pkg/telegram"
	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/sirupsen/logrus"
)

const maxConsecutiveErrors = 10

type telegramSource interface {
	Read() (telegram.ReadResult, error)
	IsTerminal() bool
}

// readLoop hands every complete, checksum-valid reading to handle. A serial
// port is read until ctx ends, a capture file until no further telegram is
// found. The reading is reused by the next Read.
func readLoop(ctx context.Context, src telegramSource, log logrus.FieldLogger, handle func(*types.MeterReading) error) error {
	consecutiveErrors := 0
	for ctx.Err() == nil {
		res, err := src.Read()
		if err != nil {
			return err
		}

		switch {
		case res.Outcome == telegram.OutcomeNoFrameFound && !src.IsTerminal():
			return nil
		case res.Outcome != telegram.OutcomeOK:
			consecutiveErrors++
			log.Warnf("Telegram rejected (%d/%d): %s", consecutiveErrors, maxConsecutiveErrors, res.Outcome)
		case res.Status != decoder.StatusComplete:
			consecutiveErrors++
			log.Warnf("Telegram not decoded (%d/%d): %s", consecutiveErrors, maxConsecutiveErrors, res.Status)
		default:
			consecutiveErrors = 0
			log.Debugf("Read %d byte telegram, consumption %.3f kW", res.Length, res.Reading.PowerIn)
			if err := handle(res.Reading); err != nil {
				return err
			}
		}

		if consecutiveErrors >= maxConsecutiveErrors && src.IsTerminal() {
			return fmt.Errorf("too many consecutive errors (%d)", consecutiveErrors)
		}
	}
	return nil
}
