// Package messaging provides a direct and group messaging backend with
// queued fan-out and per-recipient read tracking.
//
// Users register, block one another, form groups, and exchange messages.
// A send is validated synchronously (existence, membership, block checks)
// and handed to an at-least-once delivery queue; a background consumer
// fans each accepted message out, persisting one durable record and
// appending its ID to every recipient's append-only inbox index. Retrieval
// is pull based: GetNewMessages returns a user's unread messages and flips
// their read state, with direct messages carrying a single read flag and
// group messages carrying one flag per member snapshotted at fan-out time.
//
// Basic usage:
//
//	svc, err := messaging.NewService(
//		messaging.WithStore(memorystore.New()),
//		messaging.WithQueue(memoryqueue.New()),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	go svc.Consumer().Run(ctx)
//
//	alice, _ := svc.RegisterUser(ctx)
//	bob, _ := svc.RegisterUser(ctx)
//	if _, err := svc.SendMessage(ctx, alice, bob, "hi"); err != nil {
//		log.Fatal(err)
//	}
//	msgs, _ := svc.GetNewMessages(ctx, bob)
//
// Storage backends live in store/mongo, store/postgres, and store/memory;
// queue transports in queue/redis and queue/memory. Fan-out is not atomic
// across recipients: a group send that fails for some members keeps the
// successful deliveries and reports the rest through PartialFanoutError.
package messaging
