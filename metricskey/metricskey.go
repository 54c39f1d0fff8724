package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfMacOperation is perf metric
	PerfMacOperation = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mac",
		Help:         "perf_mac provides the sample metrics of MAC operations",
		RequiredTags: []string{"provider", "action"},
	}

	// StatsMacFailed is counter metric
	StatsMacFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mac_failed",
		Help:         "stats_mac_failed provides the count of failed MAC operations",
		RequiredTags: []string{"provider", "action"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfMacOperation,
	&StatsMacFailed,
}
