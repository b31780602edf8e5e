package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for diagcore telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Pool attributes
	AttrPoolName = attribute.Key("pool.name")

	// Resolver attributes
	AttrResolverMode = attribute.Key("resolver.mode")
	AttrResult       = attribute.Key("result")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")
)

// PoolAttributes returns common attributes for pool metrics.
func PoolAttributes(environment, poolName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPoolName.String(poolName),
	}
}

// ResolutionAttributes returns attributes for caller resolution metrics.
func ResolutionAttributes(environment, mode, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResolverMode.String(mode),
		AttrResult.String(result),
	}
}
