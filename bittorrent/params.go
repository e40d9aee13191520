package bittorrent

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrKeyNotFound is returned when a provided key has no value associated
// with it.
var ErrKeyNotFound = errors.New("query: value for the provided key does not exist")

// ErrInvalidQueryEscape is returned when a query string contains invalid
// escapes.
var ErrInvalidQueryEscape = ClientError("invalid query escape")

// QueryParams parses a URL query and provides typed access to its values.
//
// In the case of a key occurring multiple times in the query, only the last
// value for that key is kept. The only exception to this rule is the key
// "info_hash" which will attempt to parse each value as an InfoHash and
// return an error if parsing fails. All InfoHashes are collected and can
// later be retrieved by calling the InfoHashes method.
type QueryParams struct {
	query      string
	params     map[string]string
	infoHashes []InfoHash
}

// ParseQuery parses a URL query into QueryParams.
// The query is expected to be the raw bytes after the delimiting '?',
// without any prior decoding: info_hash values are binary once
// percent-decoded and must not pass through a text-only parser.
func ParseQuery(query string) (q *QueryParams, err error) {
	q = &QueryParams{
		query:  query,
		params: make(map[string]string),
	}

	for query != "" {
		key := query
		if i := strings.IndexAny(key, "&;"); i >= 0 {
			key, query = key[:i], key[i+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}
		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
		}
		key, err = url.QueryUnescape(key)
		if err != nil {
			return nil, ErrInvalidQueryEscape
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return nil, ErrInvalidQueryEscape
		}

		if key == "info_hash" {
			var ih InfoHash
			if len(value) != InfoHashLen {
				return nil, ErrInvalidHashSize
			}
			if ih, err = NewInfoHash(value); err != nil {
				return nil, err
			}
			q.infoHashes = append(q.infoHashes, ih)
		} else {
			q.params[strings.ToLower(key)] = value
		}
	}

	return q, nil
}

// String returns a string parsed from a query. Every key can be returned
// as a string because they are encoded in the URL as strings.
func (qp *QueryParams) String(key string) (string, bool) {
	value, ok := qp.params[key]
	return value, ok
}

// Uint64 returns a uint parsed from a query. After being called, it is
// safe to cast the uint64 to your desired length.
func (qp *QueryParams) Uint64(key string) (uint64, error) {
	str, exists := qp.params[key]
	if !exists {
		return 0, ErrKeyNotFound
	}
	return strconv.ParseUint(str, 10, 64)
}

// InfoHashes returns a list of requested infohashes.
func (qp *QueryParams) InfoHashes() []InfoHash {
	return qp.infoHashes
}

// Keys returns the keys seen in the query besides info_hash.
func (qp *QueryParams) Keys() []string {
	keys := make([]string, 0, len(qp.params))
	for k := range qp.params {
		keys = append(keys, k)
	}
	return keys
}

// RawQuery returns the raw query the params were parsed from.
func (qp *QueryParams) RawQuery() string {
	return qp.query
}
