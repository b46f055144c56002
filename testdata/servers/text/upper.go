// Convert text to upper case.
//
// Args:
//
//	text (string): input text
package text
