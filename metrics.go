package extws

import (
	"io"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	gometrics "github.com/rcrowley/go-metrics"
	"google.golang.org/protobuf/proto"
)

const metricsNamespace = "extws"

type metrics struct {
	reg gometrics.Registry
}

func newMetrics(reg gometrics.Registry) *metrics {
	return &metrics{reg: reg}
}

func (m *metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m *metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func (m *metrics) mark(name string, i int64) {
	gometrics.GetOrRegisterMeter(name, m.reg).Mark(i)
}

func (m *metrics) count(name string) int64 {
	switch v := m.reg.Get(name).(type) {
	case gometrics.Counter:
		return v.Count()
	case gometrics.Meter:
		return v.Count()
	}
	return 0
}

// writeJSON dumps the registry to w every tick until stop is closed.
func (m *metrics) writeJSON(w io.Writer, tick time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			gometrics.WriteJSONOnce(m.reg, w)
		case <-stop:
			gometrics.WriteJSONOnce(m.reg, w)
			return
		}
	}
}

// writePrometheus writes the registry in the Prometheus text format.
func (m *metrics) writePrometheus(w io.Writer) error {
	var families []*dto.MetricFamily
	m.reg.Each(func(name string, i interface{}) {
		var mf *dto.MetricFamily
		switch v := i.(type) {
		case gometrics.Counter:
			mf = gaugeFamily(name, float64(v.Count()))
		case gometrics.Gauge:
			mf = gaugeFamily(name, float64(v.Value()))
		case gometrics.Meter:
			mf = counterFamily(name+"_total", float64(v.Count()))
		}
		if mf != nil {
			families = append(families, mf)
		}
	})
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// go-metrics counters can go down, so they are exposed as gauges.
func gaugeFamily(name string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(promName(name)),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

func counterFamily(name string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(promName(name)),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func promName(name string) string {
	return metricsNamespace + "_" + strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
