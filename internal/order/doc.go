// Package order implements the Order Lifecycle Translator component.
//
// The Translator:
//   - Creates a Pending record for every RegisterOrder and forwards it to the venue
//   - Maps venue order statuses to canonical states via an injected BrokerStatusMapper
//   - Applies only forward transitions; Done and Failed are sticky
//   - Emits one ExecutionMessage per accepted change, and one fill per venue trade id
//   - Aliases cancel/replace transaction ids to the order they act on
//   - Adopts orders reported by a status refresh that are unknown locally
package order
