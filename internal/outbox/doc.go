// Package outbox implements the durable delivery queue between the chunk
// producer and the processing service. Persist first, deliver later: a chunk
// handed to the queue survives crashes until it is either confirmed
// delivered or abandoned in plain sight after exhausting its retry budget.
package outbox
