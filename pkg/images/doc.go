// Package images handles item photo uploads: validation against a size cap
// and content-type allow list, blob storage (filesystem or S3), and handing
// resize work to an external derivative service. No pixel decoding or
// scaling happens in this process.
package images
