// Package postal implements the lookup service served to each connection.
//
// DB holds postal records loaded from a KEN_ALL style CSV file and answers
// searches by exact code or by a substring of the prefecture, city or town
// name. Session runs the line protocol for one connection:
//
//	Search ? <query>\n
//	Search for '<query>':
//	  <code> <pref> <city> <town>
//
// Handler adapts a Session to the worker pool's Processor signature.
package postal
