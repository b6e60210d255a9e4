// Package metrics renders a LagRegister snapshot as Prometheus text
// exposition format 0.0.4. It is a pure read-side component: it never
// mutates anything it's given.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
)

const (
	metricOffset = "kcl_kafka_consumer_partition_offset"
	metricLag    = "kcl_kafka_consumer_partition_lag_offset"
	metricLagMs  = "kcl_kafka_consumer_partition_lag_milliseconds"
	contentType  = "text/plain; version=0.0.4"
)

// ContentType is the value to set on the HTTP response's Content-Type
// header when serving Render's output.
const ContentType = contentType

// entry is one flattened (group, topic, partition) row ready to render.
type entry struct {
	group      string
	topic      string
	partition  int32
	memberID   string
	memberHost string
	clientID   string
	lag        *kafkatypes.Lag
}

// Render produces the full metrics body for the given snapshot, tagging
// every series with clusterID.
func Render(clusterID string, groups map[string]kafkatypes.GroupWithLag) string {
	entries := flatten(groups)

	var b strings.Builder
	writeFamily(&b, metricOffset, "gauge", "Last committed offset for a consumer group on a topic partition.", clusterID, entries, func(e entry) (float64, bool) {
		if e.lag == nil {
			return 0, false
		}
		return float64(e.lag.Offset), true
	})
	b.WriteString("\n")
	writeFamily(&b, metricLag, "gauge", "Offset lag for a consumer group on a topic partition.", clusterID, entries, func(e entry) (float64, bool) {
		if e.lag == nil {
			return 0, false
		}
		return float64(e.lag.OffsetLag), true
	})
	b.WriteString("\n")
	writeFamily(&b, metricLagMs, "gauge", "Time lag, in milliseconds, for a consumer group on a topic partition.", clusterID, entries, func(e entry) (float64, bool) {
		if e.lag == nil {
			return 0, false
		}
		return float64(e.lag.TimeLag.Milliseconds()), true
	})

	return b.String()
}

func flatten(groups map[string]kafkatypes.GroupWithLag) []entry {
	var entries []entry
	for groupName, gwl := range groups {
		for tp, low := range gwl.LagByTopicPartition {
			e := entry{group: groupName, topic: tp.Topic, partition: tp.Partition, lag: low.Lag}
			if low.Owner != nil {
				e.memberID = low.Owner.ID
				e.memberHost = low.Owner.ClientHost
				e.clientID = low.Owner.ClientID
			}
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].group != entries[j].group {
			return entries[i].group < entries[j].group
		}
		if entries[i].topic != entries[j].topic {
			return entries[i].topic < entries[j].topic
		}
		return entries[i].partition < entries[j].partition
	})
	return entries
}

func writeFamily(b *strings.Builder, name, metricType, help, clusterID string, entries []entry, value func(entry) (float64, bool)) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)

	for _, e := range entries {
		v, ok := value(e)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "%s{cluster_id=%q,group=%q,topic=%q,partition=\"%d\",member_id=%q,member_host=%q,member_client_id=%q} %v\n",
			name, clusterID, e.group, e.topic, e.partition, e.memberID, e.memberHost, e.clientID, v)
	}
}
