// Package docs provides generated OpenAPI documentation.
//
// pdfscribe API
//
//	@title			pdfscribe API
//	@version		0.1.0
//	@description	Convert PDFs to per-page markdown with DeepSeek-OCR and caption the extracted images with DeepSeek-VL2.
//	@description	GPU access is admission controlled; busy requests are rejected with Retry-After or wait for a bounded time.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/pdfscribe
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@tag.name			system
//	@tag.description	Health and runtime status endpoints.
//	@tag.name			pipeline
//	@tag.description	PDF to OCR to markdown to VL2 captioning.
//	@tag.name			jobs
//	@tag.description	Tracked jobs and cancellation.
//
//	@schemes	http https
package docs

//go:generate swag init -g doc.go -d ./,../internal/server/endpoints -o ./swagger --outputTypes go,json --parseDependency --parseInternal
