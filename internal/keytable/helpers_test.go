/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keytable

import (
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func promGaugeValue(g prometheus.Gauge) float64 {
	return promtestutil.ToFloat64(g)
}
