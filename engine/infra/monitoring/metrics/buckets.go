package metrics

// UnitDurationBuckets covers provider calls that take from a second to
// several minutes.
var UnitDurationBuckets = []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600}

// TaskDurationBuckets covers whole tasks.
var TaskDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800}
