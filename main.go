// file: main.go
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/controllers"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/routes"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/services"
)

func main() {
	database.Connect()
	database.MigrateTables()
	database.InitRedis()

	store := database.NewStore(database.DB)

	k8sCfg := services.K8sConfigFromEnv()
	orch, err := services.NewKubernetesService(k8sCfg)
	if err != nil {
		log.Fatalf("Failed to initialize kubernetes client: %v", err)
	}

	settings := services.NewSettingsService(store)
	labService := services.NewLabService(orch, store, settings)
	flagService := services.NewFlagService(orch, store)
	reconciler := services.NewReconciler(orch, store)

	// 后台每 5 分钟做一次全表对账
	reconciler.Run(context.Background(), 5*time.Minute)

	r := routes.SetupRouter(routes.Controllers{
		Auth:  controllers.NewAuthController(store),
		Lab:   controllers.NewLabController(labService, reconciler),
		OS:    controllers.NewOSController(labService, reconciler),
		Flag:  controllers.NewFlagController(flagService),
		Admin: controllers.NewAdminController(settings, reconciler, store),
	})

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	log.Println("Starting server on " + addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
