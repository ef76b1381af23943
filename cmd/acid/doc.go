// Command acid identifies anime characters in images from the command line.
//
// It runs the same pipeline as the HTTP API: segmentation, identification,
// then character lookup and video search. Batches read an .xlsx manifest and
// finish with a summary and suggested actions.
//
//	acid identify ./naruto.png
//	acid batch samples.xlsx --limit 20
//	acid config init && acid config check
package main
