package node

import (
	"log/slog"
	"time"

	"zigbee-valve/internal/power"
	"zigbee-valve/internal/zcl/clusters"
)

// DefaultReportPeriod is the battery sampling interval.
const DefaultReportPeriod = 60 * time.Second

// BatterySensor yields one battery reading.
type BatterySensor interface {
	Read() (power.Reading, error)
}

// AttributeUpdater publishes a local attribute value.
type AttributeUpdater interface {
	UpdateAttribute(ep uint8, cluster, attr uint16, value any) error
}

// Reporter samples the battery and republishes it as an attribute.
type Reporter struct {
	sensor BatterySensor
	cell   *BatteryCell
	attrs  AttributeUpdater
	events *EventBus
	logger *slog.Logger
	period time.Duration
	sleep  func(time.Duration)
}

func NewReporter(sensor BatterySensor, cell *BatteryCell, attrs AttributeUpdater, events *EventBus, period time.Duration, logger *slog.Logger) *Reporter {
	if period <= 0 {
		period = DefaultReportPeriod
	}
	return &Reporter{
		sensor: sensor,
		cell:   cell,
		attrs:  attrs,
		events: events,
		logger: logger,
		period: period,
		sleep:  time.Sleep,
	}
}

// Run samples once per period and never returns.
func (r *Reporter) Run() {
	r.logger.Info("battery reporting started", "period", r.period)
	for {
		r.Cycle()
		r.sleep(r.period)
	}
}

// Cycle performs one sample-and-publish step. Errors are logged; the caller
// keeps going.
func (r *Reporter) Cycle() {
	reading, err := r.sensor.Read()
	if err != nil {
		r.logger.Error("battery read failed", "err", err)
		return
	}
	r.cell.Store(reading.Percentage)

	pct := r.cell.Load()
	if err := r.attrs.UpdateAttribute(EndpointID, clusters.PowerConfiguration.ID, clusters.PowerBatteryPercentageRemaining, pct); err != nil {
		r.logger.Error("battery attribute update failed", "err", err)
	}
	r.logger.Info("battery", "voltage", reading.Voltage, "percentage", pct)
	r.events.Publish(EventBattery, BatteryData{Voltage: reading.Voltage, Percentage: pct})
}
