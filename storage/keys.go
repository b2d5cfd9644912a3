// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "fmt"

// Key construction. Seq is zero-padded to 20 digits (max uint64 width) so
// lexicographic key order equals numeric order.

func sessionKey(token string) []byte {
	return []byte("ses/" + token)
}

func conversationKey(userID, convID string) []byte {
	return []byte("con/" + userID + "/" + convID)
}

func conversationPrefix(userID string) []byte {
	return []byte("con/" + userID + "/")
}

func messageKey(userID, convID string, seq uint64) []byte {
	return fmt.Appendf(nil, "msg/%s/%s/%020d", userID, convID, seq)
}

func messagePrefix(userID, convID string) []byte {
	return []byte("msg/" + userID + "/" + convID + "/")
}

func userMessagePrefix(userID string) []byte {
	return []byte("msg/" + userID + "/")
}

func seqKey(userID, convID string) []byte {
	return []byte("seq/" + userID + "/" + convID)
}
