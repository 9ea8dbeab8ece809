package logrecord

import "runtime"

// yieldSubBatchSize is the cooperative-yield boundary for huge batches
// (§4.1): inputs over yieldThreshold records give the scheduler a chance to
// run other goroutines every yieldSubBatchSize records, instead of running a
// single tight loop to completion.
const (
	yieldThreshold    = 100_000
	yieldSubBatchSize = 10_000
)

// BatchNormalize validates and constructs a NormalizedRecord for every raw
// input, preserving input order in both output slices. A record that fails
// any invariant is omitted from valid and reported in errs with its original
// index.
func BatchNormalize(raw []RawRecord) (valid []*NormalizedRecord, errs []FieldError) {
	valid = make([]*NormalizedRecord, 0, len(raw))
	yield := len(raw) > yieldThreshold

	for i, r := range raw {
		if yield && i > 0 && i%yieldSubBatchSize == 0 {
			runtime.Gosched()
		}

		rec, err := New(r)
		if err != nil {
			if fe, ok := err.(FieldError); ok {
				fe.Index = i
				errs = append(errs, fe)
			} else {
				errs = append(errs, FieldError{Index: i, Reason: err.Error()})
			}
			continue
		}
		valid = append(valid, rec)
	}

	return valid, errs
}
