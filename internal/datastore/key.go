// Package datastore implements the agent data store: a per-user, namespaced
// key-value store that agents use to share JSON state across executions.
package datastore

import (
	"encoding/base64"
	"strings"
)

const (
	// idSep separates the user, namespace and key segments of a document id.
	idSep = ":"
)

// segmentEscaper percent-encodes the separator (and the escape character itself)
// so user ids and namespaces containing ":" cannot shift segment boundaries.
var segmentEscaper = strings.NewReplacer("%", "%25", idSep, "%3A")

// DocID derives the storage id for (userID, namespace, key).
// The key is URL-safe base64 encoded so it may contain any bytes, including the separator.
// Ids are never parsed back; lookups always re-derive them from the triple.
func DocID(userID, namespace, key string) string {
	return segmentEscaper.Replace(userID) + idSep +
		segmentEscaper.Replace(namespace) + idSep +
		base64.URLEncoding.EncodeToString([]byte(key))
}

// legacyDocID is the id layout used before user ids and namespaces were
// escaped. It is only read, never written.
func legacyDocID(userID, namespace, key string) string {
	return userID + idSep + namespace + idSep + base64.URLEncoding.EncodeToString([]byte(key))
}
