// Package queue implements the cloud message-queue transport as a
// JetStream pull consumer.
//
// The consumer short-polls: each iteration fetches a small batch with a
// bounded wait, so an empty queue parks the loop inside the fetch rather
// than busy-waiting. Transient fetch errors back off exponentially from 5s
// up to 30s.
//
// # Delivery Discipline
//
// A message is acknowledged only after the handler has successfully
// normalized it; a handler error Naks the message for redelivery, with a
// max-deliver guard so one poison message cannot wedge the queue. Exactly
// one consumer task runs per engine — queue acknowledgement is exclusive,
// and no two tasks ever process the same message.
package queue
