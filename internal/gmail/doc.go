// Package gmail searches a user's mailbox for messages from one sender and
// flattens them into storable records.
//
// A Client is built per request from the caller's bearer token. Search first
// checks the token with a profile call, then lists message ids matching
// "from:<address>" and fetches each message in full with bounded
// parallelism. Messages that fail to fetch are logged and dropped.
//
//	client, err := gmail.NewClient(ctx, token)
//	if err != nil {
//	    return err
//	}
//	res, err := client.Search(ctx, "news@example.com", gmail.DefaultSearchLimit)
//	if err != nil {
//	    return err
//	}
//	for _, m := range res.Messages {
//	    rec := gmail.Normalize(m)
//	    ...
//	}
package gmail
