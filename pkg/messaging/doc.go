// Package messaging connects claimbridge's isolated execution contexts.
//
// A Runtime hosts one background endpoint and any number of tab endpoints.
// Contexts share no state; they exchange Messages, and every Message is
// answered at most once through a single-use reply channel:
//
//	resp, err := rt.SendMessage(ctx, messaging.Sender{TabID: 7}, messaging.Message{
//	    Action: messaging.ActionRequestPayload,
//	})
//
// A handler that needs asynchronous work simply does not return until the
// work is finished; the caller's reply channel stays open until then. A
// handler that does not recognise an action reports it as unhandled, which
// closes the reply channel without a value (ErrNoResponse on the sending side).
package messaging
