package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           Cerastes API
// @version         1.0
// @description     HTTP API for asynchronous AI inference tasks.
//
// @contact.name   Cerastes maintainers
// @contact.url    https://github.com/ArthurVigier/Cerastes-Public-API
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
