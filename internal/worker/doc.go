// Package worker собирает index image для одной архитектуры.
//
// # Обзор
//
// Worker запускается на хосте нужной архитектуры и потребляет очередь
// <prefix>_<arch>, в которую оркестратор кладёт задания build.arch.
// Prefetch равен 1: Cleanup удаляет все локальные образы, поэтому две
// сборки на одном хосте мешали бы друг другу.
//
// # Сборка
//
//  1. Запрос уже в failed → причина "Not building for the arch X since the
//     request has already failed", задание подтверждается без callback
//  2. podman rmi --all --force
//  3. opm index add --generate во временной директории
//  4. В index.Dockerfile путь /build/bin/opm заменяется на /bin/opm
//  5. podman build и podman push в реестр по шаблону arch_image_push_template
//  6. Архитектура дописывается в ArchesDone запроса
//
// Любая ошибка возвращается consumer'у, который вызывает callback
// fail_request и отправляет сообщение в DLQ. Повторов внутри воркера нет.
//
//	w := worker.New(worker.Config{
//	    Store:     store,
//	    Builder:   indexbuild.NewBuilder(cfg, runner, logger),
//	    Conn:      mqConn,
//	    Callbacks: callbacks,
//	    Arch:      cfg.Arch,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package worker
