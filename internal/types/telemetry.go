package types

// Telemetry metric names for CloudWatch.
const (
	// Metric Names
	MetricSendOutcome  = "SendOutcome"
	MetricSendLatency  = "SendLatency"
	MetricSendQueueLag = "SendQueueLag"
	MetricSendThrottle = "SendThrottled"

	// Dimension Keys
	DimResult = "Result"
	DimSource = "Source"

	// Default Metric Namespace
	MetricNamespace = "Courier"
)
