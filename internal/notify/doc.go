// Package notify carries scheduler notifications to observers.
//
// Delivery is synchronous and ordered per producer: the scheduler hands a batch
// to Hub.Emit, and every observer sees it in order. Observers must return
// quickly; anything slow belongs behind BusObserver (buffered, lossy) or its
// own goroutine.
package notify
