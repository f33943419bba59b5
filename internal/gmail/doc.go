// Package gmail wraps the Gmail API for the mailwise backend: listing,
// fetching, searching, sending and trashing messages on behalf of an
// authenticated user.
//
// A Client is built per request from the user's upstream access token; it
// holds no state beyond the API service handle. Message payloads are
// normalized into the Email type with headers extracted and the body
// decoded from the multipart MIME structure.
package gmail
