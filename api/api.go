/*
Copyright 2024 Coinvoice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/coinvoice/coinvoice"
	"github.com/coinvoice/coinvoice/api/middleware"
	"github.com/coinvoice/coinvoice/config"

	"github.com/gin-gonic/gin"
)

type Api struct {
	service *coinvoice.Coinvoice
	router  *gin.Engine
	secure  bool
}

// Router wires the invoice routes. Each mutating route sits behind its own
// caller-class token bucket; the tollbooth limiter in NewAPI guards the
// server as a whole. The processor webhook authenticates with its HMAC
// signature and the health probe stays open, so secret-key auth only covers
// the merchant-facing routes.
func (a Api) Router() *gin.Engine {
	router := a.router
	limiter := a.service.Limiter()

	merchant := router.Group("/")
	if a.secure {
		merchant.Use(middleware.SecretKeyAuthMiddleware())
	}
	merchant.POST("/invoices", middleware.CallerClassMiddleware(limiter, "create-invoice"), a.CreateInvoice)
	merchant.GET("/invoices/:id", a.GetInvoice)
	merchant.POST("/reconciliation", middleware.CallerClassMiddleware(limiter, "reconcile"), a.RunReconciliation)

	router.POST("/webhooks/processor", middleware.CallerClassMiddleware(limiter, "webhook"), a.ProcessorWebhook)
	router.GET("/health", a.Health)
	return a.router
}

func NewAPI(service *coinvoice.Coinvoice) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{service: service, router: r, secure: conf.Server.Secure}
}
