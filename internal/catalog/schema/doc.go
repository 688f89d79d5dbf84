// Package schema defines the product record and the XML product feed.
//
// # Feed Format
//
// A feed is an XML document whose root element holds one <product> element
// per record:
//
//	<products>
//	  <product>
//	    <id>1</id>
//	    <name>Trail Runner</name>
//	    <brand>Acme</brand>
//	    <image>images/trail-runner.png</image>
//	  </product>
//	</products>
//
// The root element name is not checked. All four child elements are required
// and must be non-empty after trimming surrounding whitespace. The id must be
// a base-10 integer and unique within the document. The image value is the
// asset store key and the path of the asset relative to the asset root.
//
// # Rejection
//
// Parsing is all-or-nothing: a single malformed or duplicate record rejects
// the whole snapshot with a *FeedParseError, so a bad feed never produces a
// partial reconciliation.
//
//	products, err := schema.ReadFeedFile("products.xml")
//	var perr *schema.FeedParseError
//	if errors.As(err, &perr) {
//	    log.Printf("record %d rejected: %v", perr.Index, perr)
//	}
package schema
