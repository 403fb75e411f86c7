// Package domain содержит модель данных сборки index image.
//
// Request — запись о запросе, общая для оркестратора и воркеров.
// Инварианты записи (монотонное состояние, append-only ArchesDone,
// однократный IndexImage) проверяются в Request.Apply и соблюдаются
// каждой реализацией хранилища.
//
// BuildJob и AddRequestJob — неизменяемые задания, передаваемые через очередь.
package domain
