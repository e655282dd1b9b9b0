package bolt

import (
	"bytes"

	"github.com/docschema/docschema/kv"
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

var _ prometheus.Collector = (*KVStore)(nil)

var (
	readTxDesc = prometheus.NewDesc(
		"docschema_bolt_read_transactions_total",
		"Number of read transactions started on the bolt file",
		nil, nil)

	writesDesc = prometheus.NewDesc(
		"docschema_bolt_writes_total",
		"Number of page writes performed on the bolt file",
		nil, nil)

	documentsDesc = prometheus.NewDesc(
		"docschema_bolt_documents",
		"Number of documents stored per collection",
		[]string{"collection"}, nil)
)

// Describe implements prometheus.Collector.
func (s *KVStore) Describe(ch chan<- *prometheus.Desc) {
	ch <- readTxDesc
	ch <- writesDesc
	ch <- documentsDesc
}

// Collect implements prometheus.Collector. It reports nothing while the
// store is closed.
func (s *KVStore) Collect(ch chan<- prometheus.Metric) {
	if s.db == nil {
		return
	}

	stats := s.db.Stats()
	ch <- prometheus.MustNewConstMetric(readTxDesc, prometheus.CounterValue, float64(stats.TxN))
	ch <- prometheus.MustNewConstMetric(writesDesc, prometheus.CounterValue, float64(stats.TxStats.Write))

	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			collection, ok := bytes.CutPrefix(name, kv.CollectionBucketPrefix)
			if !ok {
				return nil
			}
			ch <- prometheus.MustNewConstMetric(documentsDesc, prometheus.GaugeValue,
				float64(b.Stats().KeyN), string(collection))
			return nil
		})
	})
}
