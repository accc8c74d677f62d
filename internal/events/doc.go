// Package events turns noisy library notifications into ordered work.
//
// Queue buffers events behind a trailing debounce and hands each drained
// batch to a BatchFunc on a single goroutine. Correlator holds Add events
// until their follow-up Update arrives. Classifier partitions a batch into
// buckets and Dispatcher runs those buckets in Order.
package events
