// Package keysource provides sensor.Lister implementations.
//
//   - S3Lister lists keys through the AWS SDK paginator.
//   - BreakerLister guards another lister with a circuit breaker.
//   - MemoryLister serves keys from memory for simulation and tests.
package keysource
