// Package reaper завершает брошенные запросы.
//
// Оркестратор подтверждает задание до начала работы, поэтому запрос,
// чей оркестратор упал посреди саги, навсегда остался бы queued или
// in_progress. Reaper по cron-расписанию находит запросы без обновлений
// дольше MaxAge и переводит их в failed.
//
// Использование:
//
//	r := reaper.New(reaper.Config{Store: store, MaxAge: cfg.ReaperMaxAge, Logger: logger})
//	schedule, err := reaper.ParseSchedule(cfg.ReaperSchedule)
//	...
//	err = r.Run(ctx, schedule, repo.NewAdvisoryLock(pool, reaperLockKey))
//
// Leader election делается через pg_try_advisory_lock: Tick выполняет
// только экземпляр, удерживающий блокировку.
package reaper
