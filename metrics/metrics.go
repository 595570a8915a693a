/*
 * Copyright 2026 The pspproxy Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes a pspproxy session's counters as a Prometheus
// Collector, so a long-running proxy process can be scraped instead of
// only ever being inspected through its own logs.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Session holds the counters a Collector exports. proxy.Context keeps
// ScratchFreeBytes current; nothing in this module updates the other
// fields, so they stay zero unless the caller sets them. Fields are
// written with atomic stores and read with atomic loads from the
// Collector's Collect,
// which is invoked from whatever goroutine net/http's Prometheus
// handler runs on.
type Session struct {
	BeaconsSeen     uint64
	PdusSent        uint64
	PdusReceived    uint64
	Resets          uint64
	Timeouts        uint64
	ScratchFreeBytes uint64
	CcdsPendingIrq  uint64
}

// Collector adapts a Session into a prometheus.Collector, in the style
// of go-tcpinfo's TCPInfoCollector: one Desc per metric, Collect reads
// the live counters and emits them without retaining any state of its
// own between scrapes.
type Collector struct {
	s *Session

	beaconsDesc     *prometheus.Desc
	pdusSentDesc    *prometheus.Desc
	pdusRecvDesc    *prometheus.Desc
	resetsDesc      *prometheus.Desc
	timeoutsDesc    *prometheus.Desc
	scratchFreeDesc *prometheus.Desc
	ccdsIrqDesc     *prometheus.Desc
}

// NewCollector returns a Collector reporting s's live counters.
func NewCollector(s *Session) *Collector {
	ns := "pspproxy"
	return &Collector{
		s:               s,
		beaconsDesc:     prometheus.NewDesc(ns+"_beacons_seen_total", "Beacon notifications observed.", nil, nil),
		pdusSentDesc:    prometheus.NewDesc(ns+"_pdus_sent_total", "PDUs sent to the stub.", nil, nil),
		pdusRecvDesc:    prometheus.NewDesc(ns+"_pdus_received_total", "PDUs received from the stub.", nil, nil),
		resetsDesc:      prometheus.NewDesc(ns+"_resets_total", "Stub resets detected via beacon regression.", nil, nil),
		timeoutsDesc:    prometheus.NewDesc(ns+"_timeouts_total", "Provider poll timeouts observed.", nil, nil),
		scratchFreeDesc: prometheus.NewDesc(ns+"_scratch_free_bytes", "Unallocated bytes in the scratch region.", nil, nil),
		ccdsIrqDesc:     prometheus.NewDesc(ns+"_ccds_pending_irq", "CCDs with at least one pending interrupt line.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.beaconsDesc
	ch <- c.pdusSentDesc
	ch <- c.pdusRecvDesc
	ch <- c.resetsDesc
	ch <- c.timeoutsDesc
	ch <- c.scratchFreeDesc
	ch <- c.ccdsIrqDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.beaconsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.s.BeaconsSeen)))
	ch <- prometheus.MustNewConstMetric(c.pdusSentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.s.PdusSent)))
	ch <- prometheus.MustNewConstMetric(c.pdusRecvDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.s.PdusReceived)))
	ch <- prometheus.MustNewConstMetric(c.resetsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.s.Resets)))
	ch <- prometheus.MustNewConstMetric(c.timeoutsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.s.Timeouts)))
	ch <- prometheus.MustNewConstMetric(c.scratchFreeDesc, prometheus.GaugeValue, float64(atomic.LoadUint64(&c.s.ScratchFreeBytes)))
	ch <- prometheus.MustNewConstMetric(c.ccdsIrqDesc, prometheus.GaugeValue, float64(atomic.LoadUint64(&c.s.CcdsPendingIrq)))
}
